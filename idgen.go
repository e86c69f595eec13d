package dynaquery

import "github.com/google/uuid"

// AutoUUIDConverter binds to a string property via RegisterConverter to
// generate a v4 UUID at write time whenever the bound Go value is empty,
// the same "assign an ID just before Put" pattern the example handlers
// use around uuid.New().String() (examples/ecommerce/handlers/orders.go
// in the pay-theory-dynamorm / theory-cloud-TableTheory lineage). A
// caller-supplied non-empty value always passes through unchanged, so an
// entity can still be saved with a caller-chosen ID.
type AutoUUIDConverter struct{}

func (AutoUUIDConverter) ToWire(value interface{}) (WireValue, error) {
	s, _ := value.(string)
	if s == "" {
		s = uuid.New().String()
	}
	return WireValue{Kind: WireS, S: s}, nil
}

func (AutoUUIDConverter) FromWire(v WireValue) (interface{}, error) {
	return v.S, nil
}
