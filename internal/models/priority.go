package models

import "sort"

// SortByPriority orders resting orders of one side in strict price-time priority:
// lowest ask first for sells, highest bid first for buys, then earliest creation,
// then lowest id.
func SortByPriority(orders []Order, side Side) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.Price.Equal(b.Price) {
			if side == Buy {
				return a.Price.GreaterThan(b.Price)
			}
			return a.Price.LessThan(b.Price)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
