package formula

import "strings"

// aggregate folds the values collected for one call. Only Number values
// contribute; Text and Empty are skipped by every function.
type aggregate func(nums []float64) float64

var aggregates = map[string]aggregate{
	"SUM": func(nums []float64) float64 {
		var total float64
		for _, n := range nums {
			total += n
		}
		return total
	},
	"AVERAGE": func(nums []float64) float64 {
		if len(nums) == 0 {
			return 0
		}
		var total float64
		for _, n := range nums {
			total += n
		}
		return total / float64(len(nums))
	},
	"MAX": func(nums []float64) float64 {
		if len(nums) == 0 {
			return 0
		}
		m := nums[0]
		for _, n := range nums[1:] {
			m = max(m, n)
		}
		return m
	},
	"MIN": func(nums []float64) float64 {
		if len(nums) == 0 {
			return 0
		}
		m := nums[0]
		for _, n := range nums[1:] {
			m = min(m, n)
		}
		return m
	},
	"COUNT": func(nums []float64) float64 {
		return float64(len(nums))
	},
}

func isAggregate(name string) bool {
	_, ok := aggregates[strings.ToUpper(name)]
	return ok
}

// AggregateNames lists the supported functions.
func AggregateNames() []string {
	return []string{"SUM", "AVERAGE", "MAX", "MIN", "COUNT"}
}
