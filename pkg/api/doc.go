// Package api implements the HTTP surface: the authentication endpoints,
// the users/groups/credit-cards CRUD handlers, the front-end log sink,
// and the route chain tying them to the guard middleware.
package api
