// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StageFunc adapts a function to the Stage interface.
func TestStageFunc(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		input := newMinimalConn()
		stage := StageFunc(func(ctx context.Context, conn net.Conn) (net.Conn, error) {
			return conn, nil
		})

		output, err := stage.Call(context.Background(), input)

		require.NoError(t, err)
		assert.Same(t, net.Conn(input), output)
	})

	t.Run("failure", func(t *testing.T) {
		wantErr := errors.New("stage failed")
		stage := StageFunc(func(ctx context.Context, conn net.Conn) (net.Conn, error) {
			return nil, wantErr
		})

		output, err := stage.Call(context.Background(), newMinimalConn())

		require.ErrorIs(t, err, wantErr)
		assert.Nil(t, output)
	})
}
