package alm

// Version is the almsync release.
const Version = "0.1.0"
