package dynaquery

import "time"

// order is the shared fixture entity for this package's tests: a
// partition+sort keyed table with one GSI, a version attribute for
// optimistic locking, and a Tags set for IN/CONTAINS coverage.
type order struct {
	CustomerId string    `dynaquery:"pk;attr=customer_id"`
	OrderDate  time.Time `dynaquery:"sk;attr=order_date"`
	Status     string    `dynaquery:"index=StatusIndex:pk;attr=status"`
	CreatedAt  time.Time `dynaquery:"index=StatusIndex:sk;attr=created_at"`
	Amount     float64   `dynaquery:"attr=amount"`
	Tags       []string  `dynaquery:"attr=tags"`
	Version    int64     `dynaquery:"version;attr=version"`
}

func (order) TableName() string { return "orders" }

func mustDescribe() *EntityDescriptor {
	d, err := Describe(&order{})
	if err != nil {
		panic(err)
	}
	return d
}

// widget has two GSIs that can each fully satisfy a criteria at once,
// exercising the AmbiguousIndex path of index selection.
type widget struct {
	Id       string `dynaquery:"pk"`
	Region   string `dynaquery:"index=RegionIndex:pk"`
	Category string `dynaquery:"index=RegionIndex:sk"`
	Owner    string `dynaquery:"index=OwnerIndex:pk"`
	Created  string `dynaquery:"index=OwnerIndex:sk"`
}

func mustDescribeWidget() *EntityDescriptor {
	d, err := Describe(&widget{})
	if err != nil {
		panic(err)
	}
	return d
}

// gadget's ID is bound to AutoUUIDConverter, exercising Repository.Save's
// write-back of a converter-generated value into the entity.
type gadget struct {
	ID   string `dynaquery:"pk;attr=id"`
	Name string `dynaquery:"attr=name"`
}

func (gadget) TableName() string { return "gadgets" }
