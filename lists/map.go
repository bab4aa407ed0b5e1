package lists

// Map applies f to every element. The result is never nil.
func Map[T, U any](slice []T, f func(T) U) []U {
	result := make([]U, 0, len(slice))
	for _, x := range slice {
		result = append(result, f(x))
	}
	return result
}

func Fold[T, R any](slice []T, initial R, operation func(R, T) R) R {
	acc := initial
	for _, x := range slice {
		acc = operation(acc, x)
	}
	return acc
}

// Unique keeps the first occurrence of every key, in order.
func Unique[T any, K comparable](slice []T, key func(T) K) []K {
	seen := make(map[K]struct{}, len(slice))
	keys := make([]K, 0, len(slice))
	for _, x := range slice {
		k := key(x)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
