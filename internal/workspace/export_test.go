package workspace

// SetStatfs replaces the free-space probe.
func (m *Manager) SetStatfs(fn func(string) (uint64, error)) {
	m.statfs = fn
}
