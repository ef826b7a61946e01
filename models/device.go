package models

// Device represents a reachable peer discovered on the local network.
type Device struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}
