package telemetry

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
)

func TestSetupWithoutOTLPEndpointReturnsWorkingInstruments(t *testing.T) {
	provider, shutdown, err := Setup(context.Background(), Config{ServiceName: "test"})
	assert.NilError(t, err)
	assert.Assert(t, provider != nil)
	assert.Assert(t, provider.Tracer != nil)
	assert.Assert(t, provider.RequestCounter != nil)
	assert.Assert(t, provider.RequestDuration != nil)
	assert.Assert(t, provider.RescanCounter != nil)

	ctx, span := provider.Tracer.Start(context.Background(), "test-span")
	span.End()
	provider.RequestCounter.Add(ctx, 1)

	assert.NilError(t, shutdown(context.Background()))
}

func TestSetupDefaultsServiceName(t *testing.T) {
	provider, shutdown, err := Setup(context.Background(), Config{})
	assert.NilError(t, err)
	assert.Assert(t, provider != nil)
	assert.NilError(t, shutdown(context.Background()))
}
