package inspect

import (
    "bufio"
    "io"
    "strings"

    "github.com/LiamK/repmgr/pkg/cluster"
)

var roleKeywords = map[string]cluster.Role{
    "primary": cluster.RolePrimary,
    "master":  cluster.RolePrimary,
    "standby": cluster.RoleStandby,
    "witness": cluster.RoleOther,
    "bdr":     cluster.RoleOther,
}

// log lines repmgr interleaves with the table
var noisePrefixes = []string{"[", "WARNING", "ERROR", "NOTICE", "INFO", "DEBUG", "HINT", "DETAIL", "- "}

// Parse reads `cluster show` output and returns one StatusLine per row that
// carries a role keyword, in source order. Empty input yields an empty,
// non-nil Status.
func Parse(r io.Reader) (cluster.Status, error) {
    st := cluster.Status{}
    s := bufio.NewScanner(r)
    for s.Scan() {
        if l, ok := ParseLine(s.Text()); ok { st = append(st, l) }
    }
    if err := s.Err(); err != nil { return nil, err }
    return st, nil
}

// ParseLine classifies a single row. Tokens are compared against the role
// keywords first so that a host named "master-db" in the upstream column does
// not turn a standby row into a primary; rows with no keyword token fall back
// to a plain substring match.
func ParseLine(line string) (cluster.StatusLine, bool) {
    trimmed := strings.TrimSpace(line)
    if trimmed == "" || isSeparator(trimmed) { return cluster.StatusLine{}, false }
    upper := strings.ToUpper(trimmed)
    for _, p := range noisePrefixes {
        if strings.HasPrefix(upper, p) { return cluster.StatusLine{}, false }
    }

    fields := tokenize(trimmed)
    role, roleIdx := cluster.Role(""), -1
    for i, f := range fields {
        if r, ok := roleKeywords[strings.ToLower(f)]; ok {
            role, roleIdx = r, i
            break
        }
    }
    if roleIdx < 0 {
        lower := strings.ToLower(trimmed)
        switch {
        case strings.Contains(lower, "primary"), strings.Contains(lower, "master"):
            role = cluster.RolePrimary
        case strings.Contains(lower, "standby"):
            role = cluster.RoleStandby
        default:
            return cluster.StatusLine{}, false
        }
    }

    addr, addrIdx := extractAddress(fields, roleIdx)
    var state []string
    for i, f := range fields {
        if i == roleIdx || i == addrIdx { continue }
        state = append(state, f)
    }
    return cluster.StatusLine{
        Role:    role,
        Address: addr,
        State:   strings.Join(state, " "),
        Raw:     line,
        Fields:  fields,
    }, true
}

// extractAddress prefers a conninfo host= token, otherwise the first token
// after the role keyword that is not a marker or a numeric node ID.
func extractAddress(fields []string, roleIdx int) (string, int) {
    for i, f := range fields {
        if strings.HasPrefix(strings.ToLower(f), "host=") {
            return strings.Trim(f[len("host="):], "'\""), i
        }
    }
    for i, f := range fields {
        if i <= roleIdx && roleIdx >= 0 { continue }
        if isMarker(f) || isNumeric(f) { continue }
        return f, i
    }
    return "", -1
}

func tokenize(s string) []string {
    return strings.FieldsFunc(s, func(r rune) bool {
        return r == '|' || r == ' ' || r == '\t'
    })
}

func isSeparator(s string) bool {
    for _, r := range s {
        if r != '-' && r != '+' && r != '|' && r != '=' && r != ' ' { return false }
    }
    return true
}

func isMarker(s string) bool { return s == "*" || s == "!" || s == "?" }

func isNumeric(s string) bool {
    for _, r := range s {
        if r < '0' || r > '9' { return false }
    }
    return s != ""
}
