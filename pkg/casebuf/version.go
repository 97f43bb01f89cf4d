package casebuf

const Version = "0.1.0"
