package mesh

func (n *Node) logf(format string, args ...any) {
	if !n.cfg.Debug {
		return
	}
	n.cfg.Logger.Printf("[mesh] "+format, args...)
}
