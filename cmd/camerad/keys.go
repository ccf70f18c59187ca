package main

import (
	"fmt"
	"log"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"

	"github.jpl.nasa.gov/bdube/camerad/fitskeys"
)

// loadKeys reads a yaml file of KEYWORD: VALUE//COMMENT into db.  Keys
// already in db and not in the file are kept.
func loadKeys(fn string, db *fitskeys.DB) error {
	kk := koanf.New("::")
	if err := kk.Load(file.Provider(fn), yaml.Parser()); err != nil {
		return err
	}
	for key, val := range kk.All() {
		if err := db.Add(fmt.Sprintf("%s=%v", key, val)); err != nil {
			log.Printf("user keyword file %s: %s: %v", fn, key, err)
		}
	}
	return nil
}

// watchKeys loads fn into db now and again whenever the file changes
func watchKeys(fn string, db *fitskeys.DB) error {
	if err := loadKeys(fn, db); err != nil {
		return err
	}
	return file.Provider(fn).Watch(func(event interface{}, err error) {
		if err != nil {
			log.Printf("watching user keyword file %s: %v", fn, err)
			return
		}
		if err := loadKeys(fn, db); err != nil {
			log.Printf("reloading user keyword file %s: %v", fn, err)
			return
		}
		log.Printf("reloaded user keyword file %s, %d keys", fn, db.Len())
	})
}
