// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing core model objects (situations, items,
// offers) and driving virtual time. These helpers are intentionally minimal
// and are not intended for production usage.
package testutil
