package config

import "fmt"

// Overrides carries command-line values that take precedence over the file.
// Nil fields leave the loaded value untouched.
type Overrides struct {
	AdminPort *int
	FilePort  *int
	Increment *int
	Max       *int
	Peers     []string
	Debug     bool
	Verbose   bool
	Delay     bool
}

// Apply merges the overrides into c and re-validates the result.
func (c *Config) Apply(o Overrides) error {
	if o.AdminPort != nil {
		if *o.AdminPort <= 0 {
			return invalid("admin port must be a positive number")
		}
		c.Server.AdminPort = *o.AdminPort
	}
	if o.FilePort != nil {
		if *o.FilePort <= 0 {
			return invalid("file port must be a positive number")
		}
		prevDefault := defaultAdvertise(c.Server.FilePort)
		c.Server.FilePort = *o.FilePort
		if c.Server.Advertise == prevDefault {
			c.Server.Advertise = defaultAdvertise(c.Server.FilePort)
		}
	}
	if o.Increment != nil {
		if *o.Increment <= 0 {
			return invalid("pool increment must be a positive number")
		}
		c.Pool.Increment = *o.Increment
	}
	if o.Max != nil {
		if *o.Max <= 0 {
			return invalid("pool max must be a positive number")
		}
		c.Pool.Max = *o.Max
		if c.Pool.Min > c.Pool.Max {
			c.Pool.Min = 0
		}
	}
	if len(o.Peers) > 0 {
		c.Peers.Addresses = append([]string(nil), o.Peers...)
		c.normalizePeers()
	}
	if o.Debug {
		c.Logging.Level = "debug"
	}
	if o.Verbose {
		c.Files.Verbose = true
	}
	if o.Delay {
		c.Files.DelayEnabled = true
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("apply flags: %w", err)
	}
	return nil
}
