package shell

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agentworld/agentworld"
)

// controlTokens are shell operators that would change execution semantics
// if a shell interpreted the arguments. Commands run without a shell, so
// their presence signals an attempt to smuggle compound commands through.
var controlTokens = []string{"&&", "||", "|", ">", "<", ";", "`", "$("}

// inlineEvalFlags maps interpreter binaries to the flags that turn an
// argument into executable code.
var inlineEvalFlags = map[string][]string{
	"sh":         {"-c"},
	"bash":       {"-c"},
	"zsh":        {"-c"},
	"dash":       {"-c"},
	"node":       {"-e", "--eval"},
	"python":     {"-c"},
	"python3":    {"-c"},
	"powershell": {"-command"},
	"pwsh":       {"-command"},
}

func scopeErr(format string, a ...any) error {
	return &agentworld.ToolError{
		Kind: agentworld.ToolScopeViolation,
		Name: "shell_cmd",
		Err:  fmt.Errorf(format, a...),
	}
}

// resolveDirectory resolves the requested working directory against the
// trusted cwd and rejects anything that escapes it.
func resolveDirectory(trusted, requested string) (string, error) {
	trusted = filepath.Clean(trusted)
	if requested == "" {
		return trusted, nil
	}
	dir := requested
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(trusted, dir)
	}
	dir = filepath.Clean(dir)
	if !withinDirectory(trusted, dir) {
		return "", scopeErr("directory %q resolves outside trusted directory %q", requested, trusted)
	}
	return dir, nil
}

// validateCommand enforces the execution safety rules: no inline-eval
// interpreter flags, no shell control tokens, and path-looking arguments
// must stay inside the trusted directory.
func validateCommand(command string, parameters []string, trusted string) error {
	base := strings.ToLower(filepath.Base(command))
	base = strings.TrimSuffix(base, ".exe")
	if flags, ok := inlineEvalFlags[base]; ok {
		for _, arg := range parameters {
			for _, flag := range flags {
				if strings.EqualFold(arg, flag) {
					return scopeErr("inline-eval invocation %s %s is not allowed", base, arg)
				}
			}
		}
	}

	for _, token := range controlTokens {
		if strings.Contains(command, token) {
			return scopeErr("shell control token %q in command is not allowed", token)
		}
		for _, arg := range parameters {
			if strings.Contains(arg, token) {
				return scopeErr("shell control token %q in arguments is not allowed", token)
			}
		}
	}

	trusted = filepath.Clean(trusted)
	for _, arg := range parameters {
		if !looksLikePath(arg) {
			continue
		}
		resolved := arg
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(trusted, resolved)
		}
		resolved = filepath.Clean(resolved)
		if !withinDirectory(trusted, resolved) {
			return scopeErr("path argument %q resolves outside trusted directory %q", arg, trusted)
		}
	}
	return nil
}

// looksLikePath reports whether an argument should be subjected to the
// directory-containment check. Flags and bare words pass through; absolute
// paths and anything with a traversal component are checked.
func looksLikePath(arg string) bool {
	if strings.HasPrefix(arg, "-") {
		return false
	}
	if filepath.IsAbs(arg) {
		return true
	}
	return strings.Contains(arg, "..") || strings.ContainsRune(arg, filepath.Separator)
}

// withinDirectory reports whether path is trusted or inside it.
func withinDirectory(trusted, path string) bool {
	if path == trusted {
		return true
	}
	rel, err := filepath.Rel(trusted, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
