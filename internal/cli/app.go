package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/secretvault/internal/common"
	"github.com/dmitrijs2005/secretvault/internal/logging"
	"github.com/dmitrijs2005/secretvault/internal/server/services"
)

// App is the console state: the wired services and the selected identity.
type App struct {
	services *services.Services
	logger   logging.Logger
	timeout  time.Duration

	reader *bufio.Reader
	out    io.Writer

	namespaceID string
	userID      string
}

func NewApp(svc *services.Services, timeout time.Duration, logger logging.Logger, in io.Reader, out io.Writer) *App {
	return &App{
		services: svc,
		logger:   logger.With("module", "cli"),
		timeout:  timeout,
		reader:   bufio.NewReader(in),
		out:      out,
	}
}

// Run greets the user and serves commands until EOF or "exit".
func (a *App) Run(ctx context.Context) error {
	fmt.Fprintln(a.out, "vaultctl (type 'help' for commands)")
	runREPL(ctx, a.commands(), a.status, a.reader, a.out, a.timeout)
	return nil
}

func (a *App) status() string {
	if a.userID == "" {
		return ""
	}
	return fmt.Sprintf("(%s@%s)", a.userID, a.namespaceID)
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) requireIdentity() error {
	if a.userID == "" {
		return fmt.Errorf("%w: select an identity first with 'use <namespace> <user>'", common.ErrValidation)
	}
	return nil
}

// withVault unlocks the caller's vault for the duration of fn only.
func (a *App) withVault(ctx context.Context, fn func(u *services.UnlockedVault) error) error {
	if err := a.requireIdentity(); err != nil {
		return err
	}
	pass, err := GetPassphrase(a.out, "Passphrase")
	if err != nil {
		return err
	}
	u, err := a.services.Vaults.Open(ctx, a.namespaceID, a.userID, pass)
	if err != nil {
		return err
	}
	defer u.Wipe()
	return fn(u)
}

func (a *App) commands() map[string]command {
	return map[string]command{
		"use":          {a.use, "use <namespace> <user>", "act as user in namespace"},
		"create":       {a.create, "create [name]", "create your vault"},
		"info":         {a.info, "info", "show your vault"},
		"unlock":       {a.unlock, "unlock", "check your passphrase"},
		"rekey":        {a.rekey, "rekey", "change the vault passphrase and re-encrypt every secret"},
		"reset-lock":   {a.resetLock, "reset-lock <vault-id> [reason]", "administratively unlock a locked vault"},
		"add":          {a.add, "add [-type t] [-desc d] [-tags a,b] [-folder id] [-meta] [-expires t] [-rotate-at t] <name>", "add a secret"},
		"list":         {a.list, "list [-folder id|/] [-type t] [-tag t] [-q text] [-rotation-due] [-expired] [-limit n] [-offset n]", "list secrets"},
		"show":         {a.show, "show <secret-id>", "decrypt and print a secret"},
		"update":       {a.update, "update [-name n] [-type t] [-desc d] [-tags a,b] [-folder id|/] [-value] [-meta] [-expires t|none] [-rotate-at t|none] <secret-id>", "change a secret"},
		"rm":           {a.remove, "rm <secret-id>", "delete a secret"},
		"mkdir":        {a.mkdir, "mkdir <name> [parent-id]", "create a folder"},
		"dirs":         {a.dirs, "dirs [parent-id]", "list folders"},
		"mvdir":        {a.mvdir, "mvdir [-name n] <folder-id> [parent-id|/]", "rename or move a folder"},
		"rmdir":        {a.rmdir, "rmdir <folder-id>", "delete a folder and its secrets"},
		"share":        {a.share, "share [-reshare] [-expires t] [-message m] <secret-id> <user>", "share a secret with another user"},
		"shares":       {a.shares, "shares [outbound|inbound]", "list shares"},
		"revoke":       {a.revoke, "revoke <share-id>", "revoke a share you created"},
		"audit":        {a.audit, "audit [-action a] [-user u] [-vault id] [-secret id] [-from t] [-to t] [-limit n] [-offset n]", "query the access log"},
		"audit-export": {a.auditExport, "audit-export [-action a] [-user u] [-vault id] [-from t] [-to t]", "archive the access log to object storage"},
	}
}
