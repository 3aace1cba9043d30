// Package vidtensor loads exact frames out of large video files and tar
// archives of video files, decodes them to packed RGB24, and packs them
// into batch x width x height x channel tensors for training pipelines.
//
// Basic usage:
//
//	video, err := vidtensor.OpenVideo("clip.mp4")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer video.Sleep()
//
//	batch, err := video.GetBatch([]int{0, 30, 60})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer batch.Release()
//
// For streaming many batches ahead of a training loop, build a Schedule and
// hand it to a DatasetLoader:
//
//	loader := vidtensor.NewDatasetLoader(schedule, vidtensor.WithMaxPreload(256))
//	if err := loader.Start(4); err != nil {
//	    log.Fatal(err)
//	}
//	defer loader.Stop()
//
//	batch, err := loader.GetNextBatch()
package vidtensor
