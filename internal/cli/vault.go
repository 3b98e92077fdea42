package cli

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/secretvault/internal/server/services"
)

func (a *App) use(_ context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	a.namespaceID, a.userID = args[0], args[1]
	a.printf("Acting as %s in %s\n", a.userID, a.namespaceID)
	return nil
}

func (a *App) create(ctx context.Context, args []string) error {
	if err := a.requireIdentity(); err != nil {
		return err
	}
	a.printf("Passphrase: exactly 16 letters and digits, at least one of each\n")
	pass, err := GetNewPassphrase(a.out)
	if err != nil {
		return err
	}
	v, err := a.services.Vaults.Create(ctx, a.namespaceID, a.userID, pass, strings.Join(args, " "))
	if err != nil {
		return err
	}
	a.printf("Vault %s created\n", v.ID)
	return nil
}

func (a *App) info(ctx context.Context, _ []string) error {
	if err := a.requireIdentity(); err != nil {
		return err
	}
	v, err := a.services.Vaults.Get(ctx, a.namespaceID, a.userID)
	if err != nil {
		return err
	}
	a.printf("ID:              %s\n", v.ID)
	a.printf("Name:            %s\n", v.Name)
	a.printf("Status:          %s\n", v.Status)
	if v.LockReason != nil {
		a.printf("Locked:          %s (%s)\n", formatTime(v.LockedAt), *v.LockReason)
	}
	a.printf("Failed attempts: %d\n", v.FailedAttempts)
	a.printf("Secrets:         %d\n", v.SecretsCount)
	a.printf("KDF iterations:  %d\n", v.KDFIterations)
	a.printf("Last access:     %s\n", formatTime(v.LastAccessedAt))
	return nil
}

func (a *App) unlock(ctx context.Context, _ []string) error {
	return a.withVault(ctx, func(u *services.UnlockedVault) error {
		a.printf("Passphrase accepted for vault %s\n", u.VaultID())
		return nil
	})
}

func (a *App) rekey(ctx context.Context, _ []string) error {
	if err := a.requireIdentity(); err != nil {
		return err
	}
	v, err := a.services.Vaults.Get(ctx, a.namespaceID, a.userID)
	if err != nil {
		return err
	}
	oldPass, err := GetPassphrase(a.out, "Current passphrase")
	if err != nil {
		return err
	}
	newPass, err := GetNewPassphrase(a.out)
	if err != nil {
		return err
	}
	if err := a.services.Vaults.ChangeKey(ctx, v.ID, a.userID, oldPass, newPass); err != nil {
		return err
	}
	a.printf("Vault key changed\n")
	return nil
}

func (a *App) resetLock(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	if err := a.requireIdentity(); err != nil {
		return err
	}
	if err := a.services.Vaults.ResetLock(ctx, args[0], a.userID, strings.Join(args[1:], " ")); err != nil {
		return err
	}
	a.printf("Vault %s is active again\n", args[0])
	return nil
}
