package memory

import "github.com/timmy/kmap/internal/source"

// Categorical builds a categorical column; each value must be one of categories.
func Categorical(name string, categories []string, values []string) *source.Column {
	return &source.Column{Name: name, Kind: source.KindCategorical, Categories: categories, Strings: values}
}

// Strings builds a plain string column.
func Strings(name string, values []string) *source.Column {
	return &source.Column{Name: name, Kind: source.KindString, Strings: values}
}

// Numbers builds a float column.
func Numbers(name string, values []float64) *source.Column {
	return &source.Column{Name: name, Kind: source.KindNumeric, Numbers: values}
}

// Integers builds an integer column.
func Integers(name string, values []int64) *source.Column {
	nums := make([]float64, len(values))
	for i, v := range values {
		nums[i] = float64(v)
	}
	return &source.Column{Name: name, Kind: source.KindNumeric, Integer: true, Numbers: nums}
}

// Bools builds a boolean column.
func Bools(name string, values []bool) *source.Column {
	return &source.Column{Name: name, Kind: source.KindBool, Bools: values}
}
