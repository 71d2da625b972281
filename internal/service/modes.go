package service

// DeliveryMode is the delivery strategy for one execution, chosen once from
// whether the prompt is personalized, whether the data is split, and whether
// the plan combines split items into one email.
type DeliveryMode int

const (
	// ModeShared generates once and sends the same content to everyone.
	ModeShared DeliveryMode = iota
	// ModeSplitCached generates once per item and sends one email per (recipient, item).
	ModeSplitCached
	// ModeSplitCachedBatch generates once per item and sends one combined email per recipient.
	ModeSplitCachedBatch
	// ModePerRecipient generates and sends per recipient.
	ModePerRecipient
	// ModeSplitPerRecipient generates per (recipient, item), one email each.
	ModeSplitPerRecipient
	// ModeSplitPerRecipientBatch generates per (recipient, item) and combines per recipient.
	ModeSplitPerRecipientBatch
)

var modeNames = map[DeliveryMode]string{
	ModeShared:                 "shared",
	ModeSplitCached:            "split_cached",
	ModeSplitCachedBatch:       "split_cached_batch",
	ModePerRecipient:           "per_recipient",
	ModeSplitPerRecipient:      "split_per_recipient",
	ModeSplitPerRecipientBatch: "split_per_recipient_batch",
}

func (m DeliveryMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// Split reports whether the mode iterates split items.
func (m DeliveryMode) Split() bool {
	return m != ModeShared && m != ModePerRecipient
}

// Batch reports whether split items are combined into one email.
func (m DeliveryMode) Batch() bool {
	return m == ModeSplitCachedBatch || m == ModeSplitPerRecipientBatch
}

// SelectMode picks the strategy. Batch has no effect without split data.
func SelectMode(hasVars, hasSplit, batch bool) DeliveryMode {
	switch {
	case !hasSplit && !hasVars:
		return ModeShared
	case !hasSplit:
		return ModePerRecipient
	case !hasVars && batch:
		return ModeSplitCachedBatch
	case !hasVars:
		return ModeSplitCached
	case batch:
		return ModeSplitPerRecipientBatch
	default:
		return ModeSplitPerRecipient
	}
}

// ExpectedItems is the total item count an execution records for n recipients.
func (m DeliveryMode) ExpectedItems(recipients, items int) int {
	if m.Split() && !m.Batch() {
		return recipients * items
	}
	return recipients
}
