// Command riffengine is a flag-parsed entry point that loads a Project,
// drives its Transport Controller against a reference in-process audio
// backend for a fixed number of blocks, and optionally exports the
// result to WAV and/or MIDI. It mirrors the teacher's main.go flag-
// parsing style without the bubbletea program loop: this module treats
// the GUI, the real audio backend, and plugin hosting as external
// collaborators (spec §1), so this command stands in for all three with
// the simplest thing that exercises the scheduling engine end to end.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/schollz/riffengine/internal/export"
	"github.com/schollz/riffengine/internal/midiconnector"
	"github.com/schollz/riffengine/internal/model"
	"github.com/schollz/riffengine/internal/plugin"
	"github.com/schollz/riffengine/internal/routing"
	"github.com/schollz/riffengine/internal/storage"
	"github.com/schollz/riffengine/internal/track"
	"github.com/schollz/riffengine/internal/transport"
)

func main() {
	var (
		projectPath string
		oscAddr     string
		oscPort     int
		playMode    string
		blocks      int
		wavOut      string
		midiOutDir  string
		midiVariant string
		debugLog    string
	)
	flag.StringVar(&projectPath, "project", "", "path to a Project JSON file (required)")
	flag.StringVar(&oscAddr, "osc-addr", "", "OSC host for transport telemetry (empty disables it)")
	flag.IntVar(&oscPort, "osc-port", 0, "OSC port for transport telemetry (0 disables it)")
	flag.StringVar(&playMode, "play", "song", "playback scope to run: song")
	flag.IntVar(&blocks, "blocks", 0, "number of audio-callback blocks to run (0 = derive from song length)")
	flag.StringVar(&wavOut, "export-wav", "", "if set, render the run and write a WAV file here")
	flag.StringVar(&midiOutDir, "export-midi-dir", "", "if set, write MIDI export variants into this directory")
	flag.StringVar(&midiVariant, "export-midi-variant", "project", "project | all-riffs | per-riff")
	flag.StringVar(&debugLog, "debug", "", "if set, write debug logs to this file; empty disables logging")
	flag.Parse()

	if debugLog != "" {
		f, err := os.OpenFile(debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("open debug log: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if projectPath == "" {
		fmt.Fprintln(os.Stderr, "usage: riffengine -project path/to/song.json [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	project, err := storage.Load(projectPath)
	if err != nil {
		log.Fatalf("load project: %v", err)
	}
	song := project.Song

	ctrl := transport.NewController(song, oscAddr, oscPort)

	instrumentRegistry := plugin.NewRegistry()
	effectRegistry := plugin.NewRegistry()

	processors := make(map[model.UUID]*track.Processor, len(song.Tracks))
	for _, t := range song.Tracks {
		p := track.NewProcessor(t.ID, t.Kind, instrumentRegistry, effectRegistry, routing.DefaultCapacity)
		p.Volume = t.Volume
		p.Pan = t.Pan

		if t.Kind == model.TrackMIDI && t.DeviceBinding != "" {
			if dev, err := midiconnector.New(t.DeviceBinding); err != nil {
				log.Printf("track %s: midi device %q unavailable: %v", t.Name, t.DeviceBinding, err)
			} else if err := dev.Open(); err != nil {
				log.Printf("track %s: midi device %q open failed: %v", t.Name, t.DeviceBinding, err)
			} else {
				p.SetMIDIDevice(dev)
			}
		}

		go p.Run()
		defer p.Close()

		processors[t.ID] = p
		ctrl.RegisterTrack(t.ID, p)
	}

	switch playMode {
	case "song":
		if err := ctrl.PlaySong(); err != nil {
			log.Fatalf("play song: %v", err)
		}
	default:
		log.Fatalf("unsupported -play value %q", playMode)
	}

	totalBlocks := blocks
	if totalBlocks <= 0 {
		totalBeats := model.RecalculateLength(song)
		totalBlocks = int(totalBeats*60*float64(song.SampleRate)/song.Tempo) / song.BlockSize
		if totalBlocks <= 0 {
			totalBlocks = 1
		}
	}

	var perTrackFrames map[model.UUID][]routing.AudioFrame
	if wavOut != "" {
		perTrackFrames = make(map[model.UUID][]routing.AudioFrame, len(song.Tracks))
	}

	for i := 0; i < totalBlocks; i++ {
		for _, t := range song.Tracks {
			p := processors[t.ID]
			p.Invoke()
			if wavOut != "" && t.Kind == model.TrackAudio {
				if cons, ok := ctrl.RenderConsumer(t.ID); ok {
					perTrackFrames[t.ID] = append(perTrackFrames[t.ID], export.DrainFrames(cons, song.BlockSize)...)
				}
			}
		}
	}

	ctrl.Stop()

	if wavOut != "" {
		tracks := make([][]routing.AudioFrame, 0, len(perTrackFrames))
		for _, frames := range perTrackFrames {
			tracks = append(tracks, frames)
		}
		master := export.MixMaster(tracks)

		if err := os.MkdirAll(filepath.Dir(wavOut), 0o755); err != nil {
			log.Fatalf("export wav: %v", err)
		}
		f, err := os.Create(wavOut)
		if err != nil {
			log.Fatalf("export wav: %v", err)
		}
		defer f.Close()
		if err := export.WriteWAV(f, song.SampleRate, master); err != nil {
			log.Fatalf("export wav: %v", err)
		}
		log.Printf("wrote %s (%d frames)", wavOut, len(master))
	}

	if midiOutDir != "" {
		if err := os.MkdirAll(midiOutDir, 0o755); err != nil {
			log.Fatalf("export midi: %v", err)
		}
		switch midiVariant {
		case "project":
			writeMIDIFile(filepath.Join(midiOutDir, "project.mid"), export.ProjectMIDI(song))
		case "all-riffs":
			for id, s := range export.AllRiffsPerTrackMIDI(song) {
				writeMIDIFile(filepath.Join(midiOutDir, id.String()+".mid"), s)
			}
		case "per-riff":
			for id, s := range export.RiffFilesMIDI(song) {
				writeMIDIFile(filepath.Join(midiOutDir, id.String()+".mid"), s)
			}
		default:
			log.Fatalf("unsupported -export-midi-variant value %q", midiVariant)
		}
	}
}

func writeMIDIFile(path string, s *smf.SMF) {
	f, err := os.Create(path)
	if err != nil {
		log.Printf("export midi %s: %v", path, err)
		return
	}
	defer f.Close()
	if err := export.WriteMIDI(f, s); err != nil {
		log.Printf("export midi %s: %v", path, err)
	}
}
