package params

import (
	"testing"
)

// SetupTestConfigCleanup preserves configurations, allowing tests to modify
// them freely. Everything is restored after the test.
func SetupTestConfigCleanup(t testing.TB) {
	prevConfig := Coordinator().Copy()
	prevMesh := SwarmMeshConfig().Copy()
	t.Cleanup(func() {
		OverrideCoordinatorConfig(prevConfig)
		OverrideSwarmMeshConfig(prevMesh)
	})
}
