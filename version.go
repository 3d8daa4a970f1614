package rmbuilder

// Version is the rmbuilder release string, printed by the version verb and
// stamped into init-generated configuration files.
const Version = "0.1.0"
