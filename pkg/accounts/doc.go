// Package accounts provisions local accounts for users that authenticated
// through GitHub: account creation, an SSH authorized_keys file owned by the
// account, optional passwordless sudo and public key import.
package accounts
