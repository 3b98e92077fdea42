package cli

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/secretvault/internal/server/services"
)

func (a *App) mkdir(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	var parent *string
	if len(args) == 2 {
		parent = &args[1]
	}
	return a.withVault(ctx, func(u *services.UnlockedVault) error {
		f, err := a.services.Folders.Create(ctx, u, args[0], parent)
		if err != nil {
			return err
		}
		a.printf("Folder %s created\n", f.ID)
		return nil
	})
}

func (a *App) dirs(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	var parent *string
	if len(args) == 1 {
		parent = &args[0]
	}
	return a.withVault(ctx, func(u *services.UnlockedVault) error {
		list, err := a.services.Folders.List(ctx, u, parent)
		if err != nil {
			return err
		}
		base := 0
		if parent != nil && len(list) > 0 {
			base = list[0].Depth
		}
		for _, f := range list {
			a.printf("%s%s  [%s] %d secrets\n", strings.Repeat("  ", f.Depth-base), f.Name, f.ID, f.SecretsCount)
		}
		if len(list) == 0 {
			a.printf("No folders\n")
		}
		return nil
	})
}

func (a *App) mvdir(ctx context.Context, args []string) error {
	fs := newFlagSet("mvdir")
	name := fs.String("name", "", "new name")
	if err := parseArgs(fs, args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return errUsage
	}

	var in services.UpdateFolderInput
	if visited(fs)["name"] {
		in.Name = name
	}
	if fs.NArg() == 2 {
		p := strings.TrimPrefix(fs.Arg(1), "/")
		in.ParentID = &p
	}
	if in.Name == nil && in.ParentID == nil {
		return errUsage
	}

	return a.withVault(ctx, func(u *services.UnlockedVault) error {
		f, err := a.services.Folders.Update(ctx, u, fs.Arg(0), in)
		if err != nil {
			return err
		}
		a.printf("Folder %s is now %q at depth %d\n", f.ID, f.Name, f.Depth)
		return nil
	})
}

func (a *App) rmdir(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	return a.withVault(ctx, func(u *services.UnlockedVault) error {
		if err := a.services.Folders.Delete(ctx, u, args[0]); err != nil {
			return err
		}
		a.printf("Folder %s deleted\n", args[0])
		return nil
	})
}
