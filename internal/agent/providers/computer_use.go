package providers

// ComputerUseConfig describes the display a screen-driving tool operates
// on. Only the Anthropic backend consumes it (via its beta tool surface);
// the terminal tool set ships none, so the beta path stays dormant unless
// a plugin contributes such a tool.
type ComputerUseConfig struct {
	DisplayWidthPx  int
	DisplayHeightPx int
	DisplayNumber   int
}

// ComputerUseConfigProvider is implemented by tools that drive a screen.
type ComputerUseConfigProvider interface {
	ComputerUseConfig() *ComputerUseConfig
}
