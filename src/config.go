package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Read configuration information from a file.
 *
 * Description:	The config file is line oriented: one "key=value" per
 *		line, '#' starts a comment, blank lines are ignored.
 *		Keys may repeat; each occurrence is kept in order so
 *		things like ncsource= can be given once per interface.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

type config_line_t struct {
	key string
	val string
}

type ConfigFile struct {
	path  string
	lines []config_line_t
}

/*-------------------------------------------------------------------
 *
 * Name:        LoadConfigFile
 *
 * Purpose:     Parse a config file into an ordered key/value list.
 *
 * Inputs:	path	- Config file location.
 *
 * Returns:	Parsed config, or an error describing the first bad
 *		line.  A missing file is an error here; callers that
 *		treat the config as optional check os.IsNotExist.
 *
 *--------------------------------------------------------------------*/

func LoadConfigFile(path string) (*ConfigFile, error) {
	var fp, openErr = os.Open(path)
	if openErr != nil {
		return nil, openErr
	}
	defer fp.Close()

	var cf = &ConfigFile{path: path}

	var scanner = bufio.NewScanner(fp)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	var lineno = 0
	for scanner.Scan() {
		lineno++

		var line = strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var key, val, found = strings.Cut(line, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%s line %d: expected key=value, got %q", path, lineno, line)
		}

		cf.lines = append(cf.lines, config_line_t{
			key: strings.ToLower(strings.TrimSpace(key)),
			val: strings.TrimSpace(val),
		})
	}

	if scanErr := scanner.Err(); scanErr != nil {
		return nil, scanErr
	}

	return cf, nil
}

/* First value for a key, or "" when the key never appears. */
func (cf *ConfigFile) FetchOpt(key string) string {
	key = strings.ToLower(key)

	for _, l := range cf.lines {
		if l.key == key {
			return l.val
		}
	}

	return ""
}

/* All values for a repeatable key, in file order. */
func (cf *ConfigFile) FetchOptVec(key string) []string {
	key = strings.ToLower(key)

	var vals []string
	for _, l := range cf.lines {
		if l.key == key {
			vals = append(vals, l.val)
		}
	}

	return vals
}

func (cf *ConfigFile) FetchOptBool(key string, dfl bool) bool {
	var v = cf.FetchOpt(key)
	if v == "" {
		return dfl
	}

	return strings.EqualFold(v, "true")
}

// NewConfigFromLines builds a config without touching the filesystem.
// Handy for tests.  The helper process never reads the config file and
// builds no config at all.
func NewConfigFromLines(lines []string) *ConfigFile {
	var cf = new(ConfigFile)

	for _, line := range lines {
		var key, val, found = strings.Cut(line, "=")
		if !found {
			continue
		}

		cf.lines = append(cf.lines, config_line_t{
			key: strings.ToLower(strings.TrimSpace(key)),
			val: strings.TrimSpace(val),
		})
	}

	return cf
}
