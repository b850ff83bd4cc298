package view

// Count reduces to the number of emitted rows.
func Count() ReduceFunc {
	return func(keys []interface{}, values []interface{}, rereduce bool) (interface{}, error) {
		if rereduce {
			var total float64
			for _, v := range values {
				n, _ := toFloat(v)
				total += n
			}
			return int(total), nil
		}
		return len(values), nil
	}
}

// Sum reduces to the sum of the numeric values. Non-numeric values are ignored.
func Sum() ReduceFunc {
	return func(keys []interface{}, values []interface{}, rereduce bool) (interface{}, error) {
		var total float64
		for _, v := range values {
			if n, ok := toFloat(v); ok {
				total += n
			}
		}
		return total, nil
	}
}

// Max reduces to the largest numeric value, or 0 when none is numeric.
func Max() ReduceFunc {
	return func(keys []interface{}, values []interface{}, rereduce bool) (interface{}, error) {
		var (
			max   float64
			found bool
		)
		for _, v := range values {
			n, ok := toFloat(v)
			if !ok {
				continue
			}
			if !found || n > max {
				max = n
				found = true
			}
		}
		return max, nil
	}
}
