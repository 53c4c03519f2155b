package reducer

import "github.com/fjod/pharmacy-cart/internal/domain"

// Action is a cart state transition request. The set of actions is closed.
type Action interface {
	Name() string
	isAction()
}

// Initialize replaces the whole collection. Used at load time and when
// another context changed the durable record.
type Initialize struct {
	Items []domain.CartLineItem
}

// Add merges Item into the cart by id, or appends it.
type Add struct {
	Item domain.CartLineItem
}

// Remove drops the entry with ID.
type Remove struct {
	ID string
}

// Clear empties the cart.
type Clear struct{}

// UpdateQuantity sets the quantity of the entry with ID.
type UpdateQuantity struct {
	ID       string
	Quantity float64
}

// Increase adds Delta to the quantity of the entry with ID.
type Increase struct {
	ID    string
	Delta float64
}

// Decrease subtracts Delta from the quantity of the entry with ID, never going below 1.
type Decrease struct {
	ID    string
	Delta float64
}

func (Initialize) Name() string     { return "initialize" }
func (Add) Name() string            { return "add" }
func (Remove) Name() string         { return "remove" }
func (Clear) Name() string          { return "clear" }
func (UpdateQuantity) Name() string { return "update_quantity" }
func (Increase) Name() string       { return "increase" }
func (Decrease) Name() string       { return "decrease" }

func (Initialize) isAction()     {}
func (Add) isAction()            {}
func (Remove) isAction()         {}
func (Clear) isAction()          {}
func (UpdateQuantity) isAction() {}
func (Increase) isAction()       {}
func (Decrease) isAction()       {}
