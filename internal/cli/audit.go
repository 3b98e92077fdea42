package cli

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/dmitrijs2005/secretvault/internal/server/models"
)

// auditFilter registers the access log filter flags on fs. The returned
// func finishes the filter once fs has been parsed.
func auditFilter(fs *flag.FlagSet) (*models.AccessLogFilter, func() error) {
	f := &models.AccessLogFilter{}
	fs.StringVar(&f.Action, "action", "", "action")
	fs.StringVar(&f.UserID, "user", "", "acting user")
	fs.StringVar(&f.VaultID, "vault", "", "vault id")
	fs.StringVar(&f.SecretID, "secret", "", "secret id")
	from := fs.String("from", "", "start time, inclusive")
	to := fs.String("to", "", "end time, exclusive")

	return f, func() error {
		var err error
		if f.From, err = parseTime(*from); err != nil {
			return err
		}
		f.To, err = parseTime(*to)
		return err
	}
}

func (a *App) audit(ctx context.Context, args []string) error {
	fs := newFlagSet("audit")
	f, finish := auditFilter(fs)
	fs.IntVar(&f.Limit, "limit", 0, "page size")
	fs.IntVar(&f.Offset, "offset", 0, "page offset")
	if err := parseArgs(fs, args); err != nil {
		return err
	}
	if err := finish(); err != nil {
		return err
	}
	if err := a.requireIdentity(); err != nil {
		return err
	}

	entries, err := a.services.Audit.List(ctx, a.namespaceID, *f)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tUSER\tACTION\tVAULT\tSECRET\tOK\tDETAIL")
	for _, e := range entries {
		detail := deref(e.ActionDetail)
		if e.ErrorMessage != nil {
			detail = *e.ErrorMessage
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n", e.ID, formatTime(&e.CreatedAt), e.UserID, e.Action,
			orDash(deref(e.VaultID)), orDash(deref(e.SecretID)), e.Success, orDash(detail))
	}
	return w.Flush()
}

func (a *App) auditExport(ctx context.Context, args []string) error {
	fs := newFlagSet("audit-export")
	f, finish := auditFilter(fs)
	if err := parseArgs(fs, args); err != nil {
		return err
	}
	if err := finish(); err != nil {
		return err
	}
	if err := a.requireIdentity(); err != nil {
		return err
	}

	res, err := a.services.Archive.Export(ctx, a.namespaceID, a.userID, *f)
	if err != nil {
		return err
	}
	a.printf("Exported %d entries to s3://%s/%s\n", res.Entries, res.Bucket, res.Key)
	return nil
}
