package devicemanager

import "strings"

// parsePackageList parses the output of `pm list packages`, one
// `package:<name>` entry per line, into a plain slice of package names.
func parsePackageList(out string) []string {
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		name, ok := strings.CutPrefix(line, "package:")
		if !ok {
			continue
		}
		pkgs = append(pkgs, name)
	}
	return pkgs
}
