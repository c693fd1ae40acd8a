// Package cli implements ghauth, a command-line front end that runs the same
// login flow as the PAM module against the current terminal. It is meant for
// trying out settings before enabling the module in sshd.
package cli
