package scanner

import (
	"path"
	"regexp"
	"strings"
)

// rule is one compiled gitignore line.
type rule struct {
	re      *regexp.Regexp
	negate  bool
	dirOnly bool
	// anchored rules match the path below their base; the others match any
	// path component name.
	anchored bool
}

// ruleSet holds the rules of one ignore file. base is the slash-separated
// directory of the file relative to the scan root, "" for the root.
type ruleSet struct {
	base  string
	rules []rule
}

// parseRules compiles gitignore content.
func parseRules(base, content string) ruleSet {
	rs := ruleSet{base: base}
	for _, line := range strings.Split(content, "\n") {
		if r, ok := compileRule(line); ok {
			rs.rules = append(rs.rules, r)
		}
	}
	return rs
}

func compileRule(line string) (rule, bool) {
	line = strings.TrimRight(line, "\r")
	// Trailing spaces are insignificant unless escaped.
	if strings.HasSuffix(line, `\ `) {
		line = strings.TrimRight(line[:len(line)-2], " ") + `\ `
	} else {
		line = strings.TrimRight(line, " \t")
	}
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	var r rule
	switch {
	case strings.HasPrefix(line, "!"):
		r.negate = true
		line = line[1:]
	case strings.HasPrefix(line, `\!`), strings.HasPrefix(line, `\#`):
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimLeft(line, "/")
	}
	if strings.Contains(line, "/") {
		r.anchored = true
	}
	if line == "" {
		return rule{}, false
	}
	re, err := regexp.Compile("^" + globToRegexp(line) + "$")
	if err != nil {
		return rule{}, false
	}
	r.re = re
	return r, true
}

// globToRegexp translates gitignore glob syntax.
func globToRegexp(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				atStart := i == 0 || glob[i-1] == '/'
				switch {
				case atStart && i+2 < len(glob) && glob[i+2] == '/':
					b.WriteString("(?:.*/)?")
					i += 2
				case atStart && i+2 == len(glob):
					b.WriteString(".*")
					i++
				default:
					b.WriteString("[^/]*")
					i++
				}
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}

// match reports whether a rule of the set matches rel and, if so, whether
// the last matching rule ignores it.
func (rs ruleSet) match(rel string, isDir bool) (matched, ignored bool) {
	sub := rel
	if rs.base != "" {
		if !strings.HasPrefix(rel, rs.base+"/") {
			return false, false
		}
		sub = rel[len(rs.base)+1:]
	}
	name := path.Base(sub)
	for _, r := range rs.rules {
		if r.dirOnly && !isDir {
			continue
		}
		target := name
		if r.anchored {
			target = sub
		}
		if r.re.MatchString(target) {
			matched, ignored = true, !r.negate
		}
	}
	return matched, ignored
}

// ignoredBy applies rule sets ordered from the root down; deeper files
// override shallower ones.
func ignoredBy(sets []ruleSet, rel string, isDir bool) bool {
	ignored := false
	for _, rs := range sets {
		if m, ign := rs.match(rel, isDir); m {
			ignored = ign
		}
	}
	return ignored
}
