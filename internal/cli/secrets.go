package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/secretvault/internal/server/models"
	"github.com/dmitrijs2005/secretvault/internal/server/services"
)

func (a *App) add(ctx context.Context, args []string) error {
	fs := newFlagSet("add")
	typ := fs.String("type", "", "secret type")
	desc := fs.String("desc", "", "description")
	tags := fs.String("tags", "", "comma separated tags")
	folder := fs.String("folder", "", "folder id")
	meta := fs.Bool("meta", false, "prompt for metadata")
	expires := fs.String("expires", "", "expiry time")
	rotateAt := fs.String("rotate-at", "", "rotation reminder time")
	if err := parseArgs(fs, args); err != nil {
		return err
	}
	name := strings.Join(fs.Args(), " ")
	if name == "" {
		return errUsage
	}

	in := services.CreateSecretInput{Name: name, SecretType: *typ, Description: *desc, Tags: splitTags(*tags)}
	if *folder != "" {
		in.FolderID = folder
	}
	var err error
	if in.ExpiresAt, err = parseTime(*expires); err != nil {
		return err
	}
	if in.RotationReminderAt, err = parseTime(*rotateAt); err != nil {
		return err
	}

	return a.withVault(ctx, func(u *services.UnlockedVault) error {
		if in.Value, err = GetPassphrase(a.out, "Secret value"); err != nil {
			return err
		}
		if *meta {
			if in.Metadata, err = GetMetadata(a.reader, a.out); err != nil {
				return err
			}
		}
		s, err := a.services.Secrets.Create(ctx, u, in)
		if err != nil {
			return err
		}
		a.printf("Secret %s created\n", s.ID)
		return nil
	})
}

func (a *App) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list")
	folder := fs.String("folder", "", "folder id, / for root")
	var f models.SecretFilter
	fs.StringVar(&f.SecretType, "type", "", "secret type")
	fs.StringVar(&f.Tag, "tag", "", "tag")
	fs.StringVar(&f.Search, "q", "", "text in name or description")
	fs.BoolVar(&f.RotationDue, "rotation-due", false, "only secrets due for rotation")
	fs.BoolVar(&f.Expired, "expired", false, "only expired secrets")
	fs.IntVar(&f.Limit, "limit", 0, "page size")
	fs.IntVar(&f.Offset, "offset", 0, "page offset")
	if err := parseArgs(fs, args); err != nil {
		return err
	}
	if *folder != "" {
		root := strings.TrimPrefix(*folder, "/")
		f.FolderID = &root
	}

	return a.withVault(ctx, func(u *services.UnlockedVault) error {
		page, err := a.services.Secrets.List(ctx, u, f)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tFOLDER\tTAGS\tEXPIRES\tUPDATED")
		for _, s := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.SecretType, orDash(deref(s.FolderID)),
				orDash(strings.Join(s.Tags, ",")), formatTime(s.ExpiresAt), formatTime(&s.UpdatedAt))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		a.printf("%d of %d secrets\n", len(page.Items), page.Total)
		return nil
	})
}

func (a *App) show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	return a.withVault(ctx, func(u *services.UnlockedVault) error {
		p, err := a.services.Secrets.Read(ctx, u, args[0])
		if err != nil {
			return err
		}
		s := p.Secret
		a.printf("Name:        %s\n", s.Name)
		a.printf("Type:        %s\n", s.SecretType)
		a.printf("Description: %s\n", orDash(s.Description))
		a.printf("Tags:        %s\n", orDash(strings.Join(s.Tags, ",")))
		a.printf("Expires:     %s\n", formatTime(s.ExpiresAt))
		if s.IsShared {
			a.printf("Shared copy: yes\n")
		}
		a.printf("Value:       %s\n", p.Value)
		keys := make([]string, 0, len(p.Metadata))
		for k := range p.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			a.printf("  %s = %s\n", k, p.Metadata[k])
		}
		return nil
	})
}

func (a *App) update(ctx context.Context, args []string) error {
	fs := newFlagSet("update")
	name := fs.String("name", "", "new name")
	typ := fs.String("type", "", "new type")
	desc := fs.String("desc", "", "new description")
	tags := fs.String("tags", "", "comma separated tags")
	folder := fs.String("folder", "", "folder id, / for root")
	value := fs.Bool("value", false, "prompt for a new value")
	meta := fs.Bool("meta", false, "prompt for new metadata")
	expires := fs.String("expires", "", "expiry time or none")
	rotateAt := fs.String("rotate-at", "", "rotation reminder time or none")
	if err := parseArgs(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	id := fs.Arg(0)
	set := visited(fs)

	var in services.UpdateSecretInput
	if set["name"] {
		in.Name = name
	}
	if set["type"] {
		in.SecretType = typ
	}
	if set["desc"] {
		in.Description = desc
	}
	if set["tags"] {
		t := splitTags(*tags)
		in.Tags = &t
	}
	if set["folder"] {
		f := strings.TrimPrefix(*folder, "/")
		in.FolderID = &f
	}
	var err error
	if set["expires"] {
		if *expires == "none" {
			in.ClearExpiresAt = true
		} else if in.ExpiresAt, err = parseTime(*expires); err != nil {
			return err
		}
	}
	if set["rotate-at"] {
		if *rotateAt == "none" {
			in.ClearRotationReminder = true
		} else if in.RotationReminderAt, err = parseTime(*rotateAt); err != nil {
			return err
		}
	}

	return a.withVault(ctx, func(u *services.UnlockedVault) error {
		if *value {
			v, err := GetPassphrase(a.out, "New secret value")
			if err != nil {
				return err
			}
			in.Value = &v
		}
		if *meta {
			md, err := GetMetadata(a.reader, a.out)
			if err != nil {
				return err
			}
			in.Metadata = &md
		}
		if _, err := a.services.Secrets.Update(ctx, u, id, in); err != nil {
			return err
		}
		a.printf("Secret %s updated\n", id)
		return nil
	})
}

func (a *App) remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	return a.withVault(ctx, func(u *services.UnlockedVault) error {
		if err := a.services.Secrets.Delete(ctx, u, args[0]); err != nil {
			return err
		}
		a.printf("Secret %s deleted\n", args[0])
		return nil
	})
}
