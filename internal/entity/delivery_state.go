package entity

type DeliveryState string

const (
	// DeliveryPending marks an optimistic local append that has not been
	// echoed by the server yet. It never appears on the wire.
	DeliveryPending = DeliveryState("pending")

	DeliverySent      = DeliveryState("sent")
	DeliveryDelivered = DeliveryState("delivered")
	DeliveryRead      = DeliveryState("read")
)

// Rank defines the monotonic order of delivery states. A state never
// regresses to a lower rank.
func (s DeliveryState) Rank() int {
	switch s {
	case DeliveryPending:
		return 0
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	}

	return -1
}

func (s DeliveryState) Valid() bool {
	return s.Rank() >= 0
}

// Advance returns the more advanced of the two states.
func (s DeliveryState) Advance(to DeliveryState) DeliveryState {
	if to.Rank() > s.Rank() {
		return to
	}

	return s
}
