package core

// conversation.go -- conversation lifecycle helpers: genesis establishment,
// head-set maintenance and key-epoch rotation (§3, §4.1).

// newConversation returns a pending conversation awaiting its genesis node.
func newConversation(id ConversationId) *Conversation {
	return &Conversation{ID: id, Phase: PhasePending}
}

// establish transitions a conversation to Established once its genesis node
// has been verified, installing the first epoch's key.
func (c *Conversation) establish(firstKey ConversationKey) {
	c.Phase = PhaseEstablished
	c.Keys = []ConversationKey{firstKey}
	c.GroupGenesisFlag = true
	c.Heads = nil
	c.AdminHeads = nil
}

// advanceHeads recomputes the head set after n (with hash h) is verified:
// any parent of n that was previously a head is superseded, and h becomes a
// head unless a later node in the same verification batch already
// supersedes it (callers apply this node-by-node, so that case never
// arises here).
func advanceHeads(heads []Hash32, n *MerkleNode, h Hash32) []Hash32 {
	next := make([]Hash32, 0, len(heads)+1)
	parentSet := make(map[Hash32]struct{}, len(n.Parents))
	for _, p := range n.Parents {
		parentSet[p] = struct{}{}
	}
	for _, head := range heads {
		if _, superseded := parentSet[head]; superseded {
			continue
		}
		next = append(next, head)
	}
	next = append(next, h)
	return next
}

// isAdminAction reports whether a node's content is one the admin head set
// (versus the general head set) tracks: control actions that mutate
// membership or permissions (§3).
func isAdminAction(n *MerkleNode) bool {
	return n.Content.Kind == ContentControl && n.Content.Control != nil &&
		n.Content.Control.Kind != ControlGenesis
}

// rotationDue reports whether the conversation's epoch should roll over,
// checked after every verified node against the given message-count and
// wall-clock thresholds (§3 key rotation policy); a zero threshold disables
// that trigger. commitVerified passes engine.go's constant thresholds.
func (c *Conversation) rotationDue(maxMessages uint64, maxAgeMs int64, now int64) bool {
	if maxMessages > 0 && c.MessageCount >= maxMessages {
		return true
	}
	if maxAgeMs > 0 && c.LastRotationMs > 0 && now-c.LastRotationMs >= maxAgeMs {
		return true
	}
	return false
}

// nextEpochKey derives the next epoch's conversation key from the current
// one via the same HMAC ratchet construction used for device chains, so
// epoch rotation and device ratcheting share one primitive (§3, §9).
func (c *Conversation) nextEpochKey() ConversationKey {
	cur := c.currentKey()
	var priorKey []byte
	if cur != nil {
		priorKey = cur.Key
	} else {
		priorKey = make([]byte, 32)
	}
	var seed Hash32
	copy(seed[:], c.ID[:])
	next := ratchetAdvance(priorKey, seed)
	epoch := uint64(0)
	if cur != nil {
		epoch = cur.Epoch + 1
	}
	return ConversationKey{Epoch: epoch, Key: next}
}
