// Package flagx contains helpers for pre-parsing a handful of flags before
// the main flag set runs. The server uses it to locate its JSON config and
// .env files, which must be loaded before regular flags override them.
package flagx

import (
	"flag"
	"io"
	"os"
	"strings"
)

// FilterArgs returns the subset of args made of allowed flags and their
// values. Both "-c conf.json" and "--config=conf.json" forms are accepted.
// A token that starts with "-" is never taken as a value.
// The result is never nil.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// StringFlag extracts the value of a string flag known under one or more
// names (without dashes, e.g. "c", "config") from args. Other arguments are
// ignored, so this can run before the application's own flag set.
// When the flag is repeated the last value wins; when absent it returns "".
func StringFlag(args []string, names ...string) string {
	var value string

	allowed := make([]string, 0, len(names)*2)
	fs := flag.NewFlagSet("prefilter", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	for _, n := range names {
		allowed = append(allowed, "-"+n, "--"+n)
		fs.StringVar(&value, n, "", n)
	}

	_ = fs.Parse(FilterArgs(args, allowed))
	return value
}

// JsonConfigFlags returns the config file path given with -c or -config
// in os.Args.
func JsonConfigFlags() string {
	return StringFlag(os.Args[1:], "c", "config")
}

// EnvFileFlag returns the .env file path given with -env-file in os.Args.
func EnvFileFlag() string {
	return StringFlag(os.Args[1:], "env-file")
}
