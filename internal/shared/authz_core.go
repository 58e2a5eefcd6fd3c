package shared

// Core console capabilities gated by the policy evaluator.
const (
	CapInventoryList  = "inventory.list"
	CapInventoryGet   = "inventory.get"
	CapNodesView      = "nodes.view"
	CapSourcesHealth  = "sources.health"
	CapCachesFlush    = "caches.flush"
	CapWidgetsView    = "widgets.view"
	CapCapabilityList = "capabilities.list"
)

// CoreScopes lists all capabilities owned by the console core.
func CoreScopes() []string {
	return []string{
		CapInventoryList,
		CapInventoryGet,
		CapNodesView,
		CapSourcesHealth,
		CapCachesFlush,
		CapWidgetsView,
		CapCapabilityList,
	}
}
