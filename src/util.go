package husky

// Assorted small helpers shared across the capture engine.

import (
	"strings"
	"time"
)

type opt_pair struct {
	opt string /* Option name, lowercased. */
	val string /* Value, verbatim. */
}

/* Split "opt=val,opt=val,..." into pairs.  A bare word with no '='
 * is rejected; an empty value ("opt=") is allowed. */
func string_to_opts(s string) ([]opt_pair, bool) {
	var opts []opt_pair

	if s == "" {
		return opts, true
	}

	for _, tok := range strings.Split(s, ",") {
		var name, val, found = strings.Cut(tok, "=")
		if !found || name == "" {
			return nil, false
		}

		opts = append(opts, opt_pair{opt: strings.ToLower(name), val: val})
	}

	return opts, true
}

/* First value for an option name, or "" when absent. */
func fetch_opt(name string, opts []opt_pair) string {
	name = strings.ToLower(name)

	for _, o := range opts {
		if o.opt == name {
			return o.val
		}
	}

	return ""
}

func fetch_opt_bool(name string, opts []opt_pair, dfl bool) bool {
	var v = fetch_opt(name, opts)

	if v == "" {
		return dfl
	}

	return strings.EqualFold(v, "true")
}

/* Replace every occurrence of an option, appending if absent. */
func replace_all_opts(name string, val string, opts []opt_pair) []opt_pair {
	name = strings.ToLower(name)

	var out = make([]opt_pair, 0, len(opts)+1)
	for _, o := range opts {
		if o.opt != name {
			out = append(out, o)
		}
	}

	return append(out, opt_pair{opt: name, val: val})
}

/* Seconds and microseconds of a duration, for wire records that
 * carry split timestamps. */
func duration_to_sec_usec(d time.Duration) (uint32, uint32) {
	if d < 0 {
		d = 0
	}

	return uint32(d / time.Second), uint32((d % time.Second) / time.Microsecond)
}
