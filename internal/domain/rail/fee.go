package rail

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Fee returns the processing fee for amount, rounded to whole currency units.
func (d Descriptor) Fee(amount decimal.Decimal) decimal.Decimal {
	if d.FeePercent.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(d.FeePercent).Div(hundred).Round(0)
}

// Total returns amount plus the processing fee.
func (d Descriptor) Total(amount decimal.Decimal) decimal.Decimal {
	return amount.Add(d.Fee(amount))
}

// Fee computes the processing fee of amount on the rail id.
func (r *Registry) Fee(amount decimal.Decimal, id ID) (decimal.Decimal, error) {
	d, err := r.Describe(id)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Fee(amount), nil
}

// Total computes the fee-inclusive total of amount on the rail id.
func (r *Registry) Total(amount decimal.Decimal, id ID) (decimal.Decimal, error) {
	d, err := r.Describe(id)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Total(amount), nil
}
