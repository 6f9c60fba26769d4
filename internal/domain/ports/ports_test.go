package ports

import (
	"context"
	"reflect"
	"testing"

	"torrentplay/internal/domain"
)

func TestEngineInterface(t *testing.T) {
	typ := reflect.TypeOf((*Engine)(nil)).Elem()

	assertMethod(t, typ, "Add", []reflect.Type{
		contextType(),
		reflect.TypeOf(domain.TorrentSource{}),
	}, []reflect.Type{reflect.TypeOf(domain.TorrentState{}), errorType()})
	assertMethod(t, typ, "Remove", []reflect.Type{contextType(), torrentIDType()}, []reflect.Type{errorType()})
	assertMethod(t, typ, "List", []reflect.Type{contextType()}, []reflect.Type{
		reflect.SliceOf(reflect.TypeOf(domain.TorrentState{})),
		errorType(),
	})
	assertMethod(t, typ, "Swarm", []reflect.Type{contextType(), torrentIDType()}, []reflect.Type{
		reflect.TypeOf((*SwarmProvider)(nil)).Elem(),
		errorType(),
	})
	assertMethod(t, typ, "Close", nil, []reflect.Type{errorType()})
}

func TestSwarmProviderInterface(t *testing.T) {
	typ := reflect.TypeOf((*SwarmProvider)(nil)).Elem()
	fileType := reflect.TypeOf(domain.FileRef{})

	assertMethod(t, typ, "GetPiece", []reflect.Type{contextType(), reflect.TypeOf(0)}, []reflect.Type{
		reflect.TypeOf([]byte{}),
		errorType(),
	})
	assertMethod(t, typ, "SetPriority", []reflect.Type{
		reflect.TypeOf(0),
		reflect.TypeOf(0),
		reflect.TypeOf(domain.Priority(0)),
	}, nil)
	assertMethod(t, typ, "OpenReadStream", []reflect.Type{contextType(), fileType}, []reflect.Type{
		reflect.TypeOf((*ChunkStream)(nil)).Elem(),
		errorType(),
	})
	assertMethod(t, typ, "Materialize", []reflect.Type{contextType(), fileType}, []reflect.Type{
		reflect.TypeOf(domain.MaterializedHandle{}),
		errorType(),
	})
	assertMethod(t, typ, "Stats", nil, []reflect.Type{reflect.TypeOf(domain.SwarmStats{})})
	assertMethod(t, typ, "PieceLayout", []reflect.Type{fileType}, []reflect.Type{
		reflect.TypeOf(domain.PieceLayout{}),
		errorType(),
	})
}

func TestBufferSinkInterface(t *testing.T) {
	typ := reflect.TypeOf((*BufferSink)(nil)).Elem()

	assertMethod(t, typ, "AppendChunk", []reflect.Type{
		reflect.TypeOf([]byte{}),
		reflect.TypeOf(func(error) {}),
	}, []reflect.Type{errorType()})
	assertMethod(t, typ, "Updating", nil, []reflect.Type{reflect.TypeOf(false)})
	assertMethod(t, typ, "EndOfStream", nil, []reflect.Type{errorType()})
	assertMethod(t, typ, "Close", nil, []reflect.Type{errorType()})
}

func TestRenderSurfaceInterface(t *testing.T) {
	typ := reflect.TypeOf((*RenderSurface)(nil)).Elem()

	assertMethod(t, typ, "Play", nil, []reflect.Type{errorType()})
	assertMethod(t, typ, "ReadyState", nil, []reflect.Type{reflect.TypeOf(domain.ReadyState(0))})
	assertMethod(t, typ, "OpenBufferSink", []reflect.Type{contextType(), reflect.TypeOf("")}, []reflect.Type{
		reflect.TypeOf((*BufferSink)(nil)).Elem(),
		errorType(),
	})
	assertMethod(t, typ, "RenderDirect", []reflect.Type{
		contextType(),
		reflect.TypeOf((*DirectSource)(nil)).Elem(),
	}, []reflect.Type{errorType()})
	assertMethod(t, typ, "SetSource", []reflect.Type{
		contextType(),
		reflect.TypeOf(domain.MaterializedHandle{}),
	}, []reflect.Type{errorType()})
}

func TestTorrentRepositoryInterface(t *testing.T) {
	typ := reflect.TypeOf((*TorrentRepository)(nil)).Elem()

	assertMethod(t, typ, "Save", []reflect.Type{contextType(), reflect.TypeOf(domain.TorrentRecord{})}, []reflect.Type{errorType()})
	assertMethod(t, typ, "Get", []reflect.Type{contextType(), torrentIDType()}, []reflect.Type{reflect.TypeOf(domain.TorrentRecord{}), errorType()})
	assertMethod(t, typ, "List", []reflect.Type{contextType()}, []reflect.Type{reflect.SliceOf(reflect.TypeOf(domain.TorrentRecord{})), errorType()})
	assertMethod(t, typ, "Delete", []reflect.Type{contextType(), torrentIDType()}, []reflect.Type{errorType()})
}

func assertMethod(t *testing.T, typ reflect.Type, name string, in []reflect.Type, out []reflect.Type) {
	t.Helper()
	method, ok := typ.MethodByName(name)
	if !ok {
		t.Fatalf("missing method %s", name)
	}

	wantIn := len(in)
	if method.Type.NumIn() != wantIn {
		t.Fatalf("%s NumIn = %d, want %d", name, method.Type.NumIn(), wantIn)
	}
	for i, typIn := range in {
		if got := method.Type.In(i); got != typIn {
			t.Fatalf("%s In[%d] = %s, want %s", name, i, got, typIn)
		}
	}

	if method.Type.NumOut() != len(out) {
		t.Fatalf("%s NumOut = %d, want %d", name, method.Type.NumOut(), len(out))
	}
	for i, typOut := range out {
		if got := method.Type.Out(i); got != typOut {
			t.Fatalf("%s Out[%d] = %s, want %s", name, i, got, typOut)
		}
	}
}

func contextType() reflect.Type {
	return reflect.TypeOf((*context.Context)(nil)).Elem()
}

func errorType() reflect.Type {
	return reflect.TypeOf((*error)(nil)).Elem()
}

func torrentIDType() reflect.Type {
	return reflect.TypeOf(domain.TorrentID(""))
}
