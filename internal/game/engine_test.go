package game

import (
	"testing"
)

func TestGameFactory_RegisterAndGet(t *testing.T) {
	factory := NewGameFactory()

	factory.RegisterEngine(NewMinesEngine(nil, nil, nil))
	factory.RegisterEngine(NewPlinkoEngine(nil, nil, nil))
	factory.RegisterEngine(NewDiceEngine(nil, nil, nil))

	tests := []struct {
		gameType GameType
		exists   bool
	}{
		{GameTypeMines, true},
		{GameTypePlinko, true},
		{GameTypeDice, true},
		{GameTypeCrash, false}, // crash is driven by the Manager, not the factory
		{GameType("roulette"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.gameType), func(t *testing.T) {
			engine, exists := factory.GetEngine(tt.gameType)
			if exists != tt.exists {
				t.Errorf("GetEngine(%q) exists = %v, want %v", tt.gameType, exists, tt.exists)
			}
			if exists && engine.GetType() != tt.gameType {
				t.Errorf("engine type = %v, want %v", engine.GetType(), tt.gameType)
			}
		})
	}
}

func TestGameFactory_StartStopAll(t *testing.T) {
	factory := NewGameFactory()
	factory.RegisterEngine(NewMinesEngine(nil, nil, nil))
	factory.RegisterEngine(NewDiceEngine(nil, nil, nil))

	if err := factory.StartAll(); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if err := factory.StopAll(); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}
}
