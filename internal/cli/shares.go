package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dmitrijs2005/secretvault/internal/server/models"
	"github.com/dmitrijs2005/secretvault/internal/server/services"
)

func (a *App) share(ctx context.Context, args []string) error {
	fs := newFlagSet("share")
	reshare := fs.Bool("reshare", false, "allow the recipient to share further")
	expires := fs.String("expires", "", "share expiry time")
	message := fs.String("message", "", "note for the recipient")
	if err := parseArgs(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errUsage
	}
	secretID, target := fs.Arg(0), fs.Arg(1)

	opts := services.ShareOptions{CanReshare: *reshare, Message: *message}
	var err error
	if opts.ExpiresAt, err = parseTime(*expires); err != nil {
		return err
	}

	return a.withVault(ctx, func(u *services.UnlockedVault) error {
		targetPass, err := GetPassphrase(a.out, fmt.Sprintf("Passphrase of %s's vault", target))
		if err != nil {
			return err
		}
		sh, err := a.services.Shares.Share(ctx, u, secretID, target, targetPass, opts)
		if err != nil {
			return err
		}
		a.printf("Share %s created, copy %s in %s's vault\n", sh.ID, deref(sh.TargetSecretID), target)
		return nil
	})
}

func (a *App) shares(ctx context.Context, args []string) error {
	direction := models.ShareDirectionOutbound
	switch len(args) {
	case 0:
	case 1:
		direction = args[0]
	default:
		return errUsage
	}

	return a.withVault(ctx, func(u *services.UnlockedVault) error {
		list, err := a.services.Shares.List(ctx, u, direction)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tCOPY\tFROM\tTO\tSTATUS\tRESHARE\tEXPIRES")
		for _, sh := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n", sh.ID, orDash(deref(sh.SourceSecretID)), orDash(deref(sh.TargetSecretID)),
				sh.SharedByUserID, sh.SharedWithUserID, sh.Status, sh.CanReshare, formatTime(sh.ExpiresAt))
		}
		return w.Flush()
	})
}

func (a *App) revoke(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := a.requireIdentity(); err != nil {
		return err
	}
	if err := a.services.Shares.Revoke(ctx, args[0], a.userID); err != nil {
		return err
	}
	a.printf("Share %s revoked\n", args[0])
	return nil
}
