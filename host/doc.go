// Package host wires plugins into a shared service namespace.
//
// A ServiceHost owns one svc.Registry. Wiring a plugin registers a
// forwarding proxy for each service it declares and answers the plugin's
// own requests from the same registry, so services offered by the host
// and by any plugin are callable from everywhere by name.
package host
