package tasks

import (
	"sort"
	"strconv"
	"strings"
)

const (
	minPort = 0
	maxPort = 65534
)

// DefaultPorts are probed when an instruction names none.
var DefaultPorts = []int{21, 22, 23, 25, 53, 80, 443, 8000, 8080, 8443}

// ParsePorts reads a comma separated list of ports and ranges. A range is
// "N-M", "-M" (from the lowest port) or "N-" (to the highest port). Malformed
// segments and port 0 are dropped. The result is sorted without duplicates.
func ParsePorts(s string) []int {
	seen := make(map[int]struct{})
	for _, seg := range strings.Split(s, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if strings.Contains(seg, "-") {
			lo, hi, ok := parseRange(seg)
			if !ok {
				continue
			}
			for p := lo; p <= hi; p++ {
				seen[p] = struct{}{}
			}
			continue
		}
		seen[atoiOrZero(seg)] = struct{}{}
	}
	delete(seen, 0)

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

func parseRange(seg string) (lo, hi int, ok bool) {
	bounds := strings.Split(seg, "-")
	if len(bounds) != 2 {
		return 0, 0, false
	}
	lo, hi = minPort, maxPort
	if b := strings.TrimSpace(bounds[0]); b != "" {
		lo = atoiOrZero(b)
	}
	if b := strings.TrimSpace(bounds[1]); b != "" {
		hi = atoiOrZero(b)
	}
	if lo >= hi {
		return 0, 0, false
	}
	return lo, hi, true
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < minPort || n > maxPort {
		return 0
	}
	return n
}
