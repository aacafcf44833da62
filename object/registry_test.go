// MIT License
//
// Copyright (c) 2023-2026 Arvo Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package object

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/arvo-run/arvo/errors"
)

type room struct {
	Occupants int `msgpack:"occupants"`
}

type join struct {
	Who string `msgpack:"who"`
}

type joined struct {
	Occupants int `msgpack:"occupants"`
}

func TestRegistryFactory(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterType("Room", func() ServiceObject { return new(room) })

	factory, err := registry.Factory("Room")
	require.NoError(t, err)
	assert.IsType(t, &room{}, factory())

	_, err = registry.Factory("Nope")
	assert.ErrorIs(t, err, errors.ErrUnknownType)
}

func TestRegistryUnknownMessage(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterType("Room", func() ServiceObject { return new(room) })

	_, err := registry.Handler("Room", "Nope")
	assert.ErrorIs(t, err, errors.ErrUnknownMessage)
}

func TestRegisterMessageRoundTrip(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterType("Room", func() ServiceObject { return new(room) })
	RegisterMessage(registry, "Room", "Join", func(_ *Context, r *room, _ *join) (*joined, error) {
		r.Occupants++
		return &joined{Occupants: r.Occupants}, nil
	})

	handler, err := registry.Handler("Room", "Join")
	require.NoError(t, err)

	payload, err := msgpack.Marshal(&join{Who: "alice"})
	require.NoError(t, err)

	obj := new(room)
	octx := NewContext(context.Background(), NewIdentity("Room", "1"), NewAppData(), nil)
	result, err := handler(octx, obj, payload)
	require.NoError(t, err)

	var response joined
	require.NoError(t, msgpack.Unmarshal(result, &response))
	assert.Equal(t, 1, response.Occupants)
	assert.Equal(t, 1, obj.Occupants)
}

func TestRegisterMessageUserError(t *testing.T) {
	registry := NewRegistry()
	RegisterMessage(registry, "Room", "Join", func(_ *Context, _ *room, _ *join) (*joined, error) {
		return nil, assert.AnError
	})

	handler, err := registry.Handler("Room", "Join")
	require.NoError(t, err)

	octx := NewContext(context.Background(), NewIdentity("Room", "1"), NewAppData(), nil)
	_, err = handler(octx, new(room), nil)
	assert.ErrorIs(t, err, errors.ErrUserError)
}

func TestTypeNameOf(t *testing.T) {
	assert.Equal(t, "room", TypeNameOf(new(room)))
	assert.Equal(t, "room", TypeNameOf(room{}))
}

func TestAppData(t *testing.T) {
	data := NewAppData()
	data.Set(&room{Occupants: 3})

	stored, ok := GetAs[*room](data)
	require.True(t, ok)
	assert.Equal(t, 3, stored.Occupants)

	_, ok = GetAs[*join](data)
	assert.False(t, ok)
}

func TestContextShutdownFlag(t *testing.T) {
	octx := NewContext(context.Background(), NewIdentity("Room", "1"), NewAppData(), nil)
	assert.False(t, octx.ShutdownRequested())
	octx.RequestShutdown()
	assert.True(t, octx.ShutdownRequested())
}
