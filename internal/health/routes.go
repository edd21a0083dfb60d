package health

import (
	"regexp"
	"strings"
)

// DefaultLivenessRoute is always required and always probed first.
const DefaultLivenessRoute = "/health"

// routePattern matches "/token" where the slash starts a word, so URLs such
// as "http://host" and fractions such as "1/2" are not taken as routes.
var routePattern = regexp.MustCompile(`(?:^|[\s,;:(\[{"'\x60])(/[A-Za-z0-9][A-Za-z0-9_\-./]*)`)

// RequiredRoutes derives the routes a goal requires: the liveness route
// first, then every /token in the goal in order of appearance, deduplicated.
func RequiredRoutes(goal, liveness string) []string {
	if liveness == "" {
		liveness = DefaultLivenessRoute
	}
	routes := []string{liveness}
	seen := map[string]bool{liveness: true}

	for _, m := range routePattern.FindAllStringSubmatch(goal, -1) {
		route := strings.TrimRight(m[1], "./-")
		if route == "" || route == "/" || seen[route] {
			continue
		}
		seen[route] = true
		routes = append(routes, route)
	}
	return routes
}
