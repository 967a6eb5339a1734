package models

// Route is a navigation path understood by the app router.
type Route string

const (
	// RouteNone means "stay on the current screen".
	RouteNone         Route = ""
	RouteRoot         Route = "/"
	RouteLogin        Route = "/(authentication)/login"
	RouteOnboarding   Route = "/(onboarding)/intro"
	RouteNetworkError Route = "/(fallback)/network-error"
	RouteError        Route = "/(fallback)/error"
)

// DashboardRoute returns the landing route of a role.
func DashboardRoute(role Role) Route {
	return Route("/(protected)/" + string(role) + "/dashboard")
}

func (r Route) String() string {
	return string(r)
}
