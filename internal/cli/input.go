package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dmitrijs2005/secretvault/internal/common"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// GetSimpleText prints a prompt to w and reads a single line of input from reader.
// The trailing newline is trimmed. If EOF occurs after some input was read,
// the partial line is returned.
func GetSimpleText(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+": "); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// GetPassphrase prints prompt to w and reads a line from the terminal
// without echo.
func GetPassphrase(w io.Writer, prompt string) (string, error) {
	if _, err := fmt.Fprint(w, prompt+": "); err != nil {
		return "", err
	}
	b, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(b)
	return strings.TrimRight(string(b), "\r\n"), nil
}

// GetNewPassphrase asks for a passphrase twice and fails when the two differ.
func GetNewPassphrase(w io.Writer) (string, error) {
	p1, err := GetPassphrase(w, "New passphrase")
	if err != nil {
		return "", err
	}
	p2, err := GetPassphrase(w, "Repeat passphrase")
	if err != nil {
		return "", err
	}
	if p1 != p2 {
		return "", fmt.Errorf("%w: passphrases do not match", common.ErrValidation)
	}
	return p1, nil
}

// GetMetadata reads "name=value" lines until an empty line or EOF.
func GetMetadata(reader *bufio.Reader, w io.Writer) (map[string]string, error) {
	if _, err := fmt.Fprintln(w, "Metadata as name=value, one per line (empty line to finish)"); err != nil {
		return nil, err
	}

	md := map[string]string{}
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: metadata line %q is not name=value", common.ErrValidation, line)
		}
		md[name] = strings.TrimSpace(value)
		if err != nil {
			break
		}
	}
	return md, nil
}

// splitTags turns "a, b,c" into its trimmed, non-empty parts.
func splitTags(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
