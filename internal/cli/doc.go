// Package cli provides vaultctl, the interactive vault console.
//
// The console acts as one (namespace, user) at a time, selected with "use".
// Every command that needs the vault key prompts for the passphrase without
// echo, unlocks the vault for that one command and wipes the key when the
// command returns; nothing is cached between commands.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
