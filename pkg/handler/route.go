package handler

// Route type
type Route string

const (
	// RouteListFunctions list all usb functions
	RouteListFunctions Route = "listFunctions"
	// RouteFindByID functions of a vid:pid pair
	RouteFindByID Route = "findByID"
	// RouteFind function behind a device node
	RouteFind Route = "find"
	// RouteListIDs list all vid:pid pairs
	RouteListIDs Route = "listIDs"
	// RouteUpdate rescan sysfs
	RouteUpdate Route = "update"
	// RouteGetSnapshot get the whole snapshot
	RouteGetSnapshot Route = "getSnapshot"
)
