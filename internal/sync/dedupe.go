package sync

// partitionByGMsgID splits uids into those whose message body must be
// downloaded and those that can be linked to an already-stored message.
// UIDs missing from gmsgids (the server no longer knows them) are dropped.
// Both results come back ascending because uids is ascending.
func partitionByGMsgID(uids []uint32, gmsgids map[uint32]uint64, known map[uint64]bool) (fullDownload, linkOnly []uint32) {
	for _, uid := range uids {
		g, ok := gmsgids[uid]
		if !ok {
			continue
		}
		if known[g] {
			linkOnly = append(linkOnly, uid)
		} else {
			fullDownload = append(fullDownload, uid)
		}
	}
	return fullDownload, linkOnly
}
